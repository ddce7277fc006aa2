// Package config 提供 rheo 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量（RHEO_ 前缀）的顺序叠加，
// 覆盖运行参数、检查点存储、日志、指标与遥测五个部分。
package config
