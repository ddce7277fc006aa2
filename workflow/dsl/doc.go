// Package dsl 提供 YAML 声明式工作流定义，
// 支持变量插值、角色与治理节点、条件表达式路由、重试回路和子图，
// 将定义解析为可由 workflow.Scheduler 执行的 Graph。
package dsl
