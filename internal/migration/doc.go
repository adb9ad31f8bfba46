// 版权所有 2024 AgentMesh Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理 Agent 注册表的数据库 Schema，支持 PostgreSQL、
MySQL 与 SQLite 三种数据库，基于 golang-migrate 实现。

# 概述

本包通过 embed.FS 内嵌各数据库方言的 SQL 迁移文件，结合
golang-migrate 引擎实现版本化的 Schema 变更管理。支持正向迁移、
回滚、按步执行、跳转到指定版本以及强制设置版本号等操作。

# 核心接口与类型

  - Migrator：迁移器接口，定义 Up/Down/DownAll/Steps/Goto/Force/
    Version/Status/Info/Close 等完整操作集。
  - DefaultMigrator：Migrator 的默认实现，封装 golang-migrate 实例
    与数据库连接管理。
  - Config：迁移配置，包含数据库类型、迁移表名、锁超时与日志。
  - DatabaseType：数据库类型枚举（postgres/mysql/sqlite）。
  - MigrationStatus / MigrationInfo：迁移状态与摘要信息。
  - CLI：命令行交互层，封装 Migrator 提供格式化输出。

# 主要能力

  - 多数据库支持：通过 DatabaseType 与内嵌 SQL 文件自动适配方言。
  - 共享连接池：NewMigrator / Run 复用注册表已打开的连接池，
    Close 不会关闭调用方的 sql.DB（serve 启动时自动迁移）。
  - 独立连接：NewMigratorFromConfig / NewMigratorFromDatabaseConfig
    通过 database.Open 打开专用连接（agentmesh migrate 子命令）。
  - CLI 集成：CLI.Dispatch 将 up/down/reset/status/version/info/
    steps/goto/force 映射到格式化的终端输出。
*/
package migration
