package errcode

// 错误码约定：
// - 0：无错误
// - 4xxx：输入类错误（记录本身无效，重试无意义）
// - 5xxx：系统错误（渲染、存储或通知链路失败）
const (
	OK            = 0
	InvalidInput  = 4000
	RateLimited   = 4029
	RenderFailed  = 5001
	StorageFailed = 5002
	NotifyFailed  = 5003
	SystemError   = 5000
)
