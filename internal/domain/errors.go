package domain

import "errors"

// 错误分类：
//   - ErrExchangeUnavailable: 交易所网络/API 暂时失败，向上传播，由调用方决定是否重试
//   - ErrUnknownAsset / ErrUnsupportedPair: 配置错误，构造时致命
//   - ErrInsufficientFunds / ErrOrderTooSmall: 正常业务结果，记录日志后终止本次生命周期
//   - ErrIncompleteFill: 内部使用，触发撤单重下，不暴露给调用方
var (
	ErrExchangeUnavailable = errors.New("exchange unavailable")
	ErrUnknownAsset        = errors.New("unknown asset")
	ErrUnsupportedPair     = errors.New("unsupported pair")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrOrderTooSmall       = errors.New("order too small")
	ErrIncompleteFill      = errors.New("incomplete fill")
)

// IsBusinessRule 业务规则类结果（不是异常，不应让调用方失败）
func IsBusinessRule(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) || errors.Is(err, ErrOrderTooSmall)
}
