// Package server 管理运维 HTTP 面的生命周期。
//
// Manager 从 config.ServerConfig 装配 net/http.Server:非阻塞 Start、
// 带排空超时的 Shutdown、监听 SIGINT/SIGTERM 的 WaitForShutdown,
// 以及暴露服务异常的 Fatal 通道。生命周期单向推进,停止后的
// Manager 不能再启动。TLS 终结在进程外的反向代理完成。
package server
