// Package config 提供 ChronoFlow 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量 的顺序加载，环境变量键为
// CHRONOFLOW_<SECTION>_<FIELD>，例如 CHRONOFLOW_BATCH_MAX_CONCURRENCY。
// 各段配置可转换为 batch、cache、monitor、balancer 包的组件配置。
package config
