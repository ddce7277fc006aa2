/*
包 migration 管理检查点表的数据库结构，基于 golang-migrate。

SQL 迁移文件按方言内嵌在 migrations/{sqlite,postgres,mysql} 下，
与 checkpoint.SQLStore 使用的 checkpoints 表结构一致。Migrator 提供
Up/Down/DownAll/Steps/Goto/Force/Version/Status/Info，CLI 为
rheo migrate 子命令输出格式化结果。

sqlite 方言通过 database/sql 驱动名 sqlite3 打开连接。
*/
package migration
