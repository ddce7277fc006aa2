// Package tlsutil 提供集中式 TLS 配置，
// 为指标端点和 Redis 检查点连接提供安全加固的 TLS 设置（TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
