// Package engine 把记忆存储、相关性检索、模式分析、模型补全与
// 更新汇总装配成一个进程级外观。
//
// 引擎的两条主路径:
//
//   - ProcessMessage: 对话消息进来,取相关记忆做上下文,跑模式分析,
//     调模型生成回复(模型不可用时走启发式降级),最后把这一轮写回记忆
//     并与上下文记录建立双向关联。
//   - HandleUpdate: 团队成员更新进来,落一条记忆记录后交给汇总批处理器,
//     由计数或时间触发器决定是否产出高管摘要。
//
// 记忆层故障从不向对话方冒泡:检索退化为空上下文,写入静默丢弃,
// 引擎表现为"失忆"而不是报错。后台协程(留存清扫、汇总时间触发、
// 统计快照落盘)由 Initialize 启动、Shutdown 回收。
package engine
