/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖 HTTP、
记忆存储、检索、模式分析、摘要与模型调用六个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace 隔离，
支持多维度 label 分组，便于 Grafana 等工具进行可视化与告警。

# 主要能力

  - HTTP 指标：请求总数与耗时，按 method/path/status 分组，
    状态码归类为 2xx/3xx/4xx/5xx。
  - 存储指标：记忆记录读写计数与耗时，按 op/status 分组；
    索引清扫删除的孤儿成员计数。
  - 检索指标：查询耗时与命中条数、检索缓存命中/未命中。
  - 分析指标：升级判定计数,按是否需要关注分组。
  - 摘要指标：摘要产出计数,按 outcome 分组（summarized/
    no_updates/failed）,以及降级生成计数。
  - 模型指标：请求总数、耗时与 prompt Token 用量，
    按 model/status 分组。
*/
package metrics
