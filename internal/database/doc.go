/*
包 database 为检查点的 SQL 后端提供 GORM 连接管理。

# 概述

Open 根据 config.DatabaseConfig 选择 sqlite（glebarez 纯 Go 驱动）、
postgres 或 mysql 方言并返回 PoolManager。PoolManager 负责连接池参数、
可停止的后台健康检查，以及带重试的事务执行。

# 核心类型

  - PoolManager：持有 gorm.DB 与底层 sql.DB，提供 DB、Ping、Stats、Close。
  - PoolConfig：连接池配置，零值健康检查间隔表示不探活。
  - TransactionFunc：事务回调。

IsRetryable 识别死锁、序列化失败、锁等待与 sqlite 忙等瞬时错误，
WithTransactionRetry 仅对这些错误退避重试。
*/
package database
