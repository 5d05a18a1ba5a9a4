package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/chronoflow/batch"
	"github.com/BaSui01/chronoflow/engine"
	"github.com/BaSui01/chronoflow/types"
)

// itemsFile 工作项文件既可以是列表，也可以是 {items: [...]}
type itemsFile struct {
	Items []batch.WorkItem `yaml:"items"`
}

// loadItems 读取 YAML 或 JSON 工作项文件（JSON 是 YAML 的子集）
func loadItems(path string) ([]batch.WorkItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read items file: %w", err)
	}
	return parseItems(data)
}

func parseItems(data []byte) ([]batch.WorkItem, error) {
	var list []batch.WorkItem
	if err := yaml.Unmarshal(data, &list); err != nil {
		var wrapped itemsFile
		if err := yaml.Unmarshal(data, &wrapped); err != nil {
			return nil, fmt.Errorf("parse items file: %w", err)
		}
		list = wrapped.Items
	}

	for i := range list {
		p, err := types.ParsePriority(string(list[i].Priority))
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		list[i].Priority = p
	}
	return list, nil
}

// writeReport 以缩进 JSON 输出报告，path 为空时写 stdout
func writeReport(path string, report *engine.Report) error {
	var w io.Writer = os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create report file: %w", err)
		}
		defer f.Close()
		w = f
	}
	return encodeReport(w, report)
}

func encodeReport(w io.Writer, report *engine.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}
