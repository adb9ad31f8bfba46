// 版权所有 2024 AgentMesh Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 负责打开注册表数据库并管理 GORM 连接池。

# 概述

Open 根据 config.DatabaseConfig 选择 sqlite（glebarez 纯 Go 驱动）、
postgres 或 mysql 方言；PoolManager 封装连接池参数、健康检查、
统计采集与事务重试。

# 核心类型

  - PoolManager：连接池管理器，持有 GORM DB 与底层 sql.DB，
    提供 DB()、Ping()、Stats()、Close() 等生命周期方法。
  - PoolConfig：连接池配置，可由 PoolConfigFrom 从全局配置生成。
  - StatsObserver：健康检查时接收 sql.DBStats（指标导出）。
  - TransactionFunc：事务回调函数类型。

# 主要能力

  - 多驱动：sqlite / postgres / mysql，sqlite 文件库自动设置 busy_timeout。
  - 健康检查：StartHealthCheck 按间隔 PingContext 探活，随 ctx 或 Close 退出。
  - 事务管理：WithTransaction 与 WithTransactionRetry（死锁、序列化失败、
    sqlite 写锁等场景指数退避重试）。
*/
package database
