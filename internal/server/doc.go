/*
包 server 提供指标端点的 HTTP/HTTPS 服务器生命周期管理。

Server 在 /metrics 上暴露 Prometheus 注册表，在 /healthz 上返回存活状态。
Start 非阻塞，监听失败同步返回；运行期错误经 Errors() 通道传出。
配置了证书与私钥时，使用 tlsutil 的加固配置以 HTTPS 提供服务。
Shutdown 在超时内排空请求，重复调用为空操作。
*/
package server
