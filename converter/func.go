package converter

import (
	"context"

	"github.com/BaSui01/chronoflow/batch"
)

// Func 把只关心 payload 与输出格式的函数适配为 batch.Converter
func Func(fn func(payload any, outputSpec []string) (any, error)) batch.Converter {
	return batch.ConverterFunc(func(ctx context.Context, payload any, outputSpec []string, _ batch.ConvertContext) (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return fn(payload, outputSpec)
	})
}
