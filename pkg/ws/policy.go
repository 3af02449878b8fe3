package ws

import "fmt"

// 策略名称
const (
	PolicyEcho         = "echo"
	PolicyCountingEcho = "counting_echo"
)

// EchoPrefix 回显前缀
const EchoPrefix = "Echo: "

// Policy 响应策略
// Respond 必须是纯函数；count 为本条消息查询到的记录数，未查询或查询失败时为 nil
type Policy interface {
	Respond(payload string, count *int64) string
	NeedsStore() bool
}

// EchoPolicy 原样回显
type EchoPolicy struct{}

func (EchoPolicy) Respond(payload string, _ *int64) string { return EchoPrefix + payload }
func (EchoPolicy) NeedsStore() bool                        { return false }

// CountingEchoPolicy 回显，并在每条消息上查询一次记录数
// 记录数不进入响应内容
type CountingEchoPolicy struct{}

func (CountingEchoPolicy) Respond(payload string, _ *int64) string { return EchoPrefix + payload }
func (CountingEchoPolicy) NeedsStore() bool                        { return true }

// PolicyByName 按名称获取策略
func PolicyByName(name string) (Policy, error) {
	switch name {
	case PolicyEcho:
		return EchoPolicy{}, nil
	case PolicyCountingEcho, "":
		return CountingEchoPolicy{}, nil
	default:
		return nil, ErrInvalidConfig.WithMessage(fmt.Sprintf("unknown policy: %s", name))
	}
}
