package errors

/*
	错误码分段：
	30xx 配置
	31xx 缓存
	40xx 连接/传输
	41xx 存储
	42xx 容量
	43xx 启动
	44xx 链路追踪
*/

const (
	CodeHandshakeFailed = 4001 // 握手失败（压测端）
	CodeSendFailed      = 4002 // 发送失败
	CodeReceiveFailed   = 4003 // 接收失败
	CodeConnectionGone  = 4004 // 连接已关闭

	CodeStoreUnavailable = 4101 // 存储不可用
	CodeQueryFailed      = 4102 // 查询失败

	CodeCapacityExceeded = 4201 // 连接数或任务数超限

	CodeStartupInitFailed = 4301 // 启动初始化失败
)

var (
	// ErrServer 服务器错误
	ErrServer = New(1000, "服务器异常", 500)
)
