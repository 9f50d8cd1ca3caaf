package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrUnknownKind 收到未登记的消息类型
var ErrUnknownKind = errors.New("unknown message kind")

var validate = validator.New()

// 线上格式：每条 WebSocket 文本消息一个 envelope
// 示例：{"type":"restart_ack","data":{"roundId":3}}
type envelope struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode 将消息编码为 envelope JSON
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	return json.Marshal(envelope{Type: m.Kind(), Data: data})
}

// Decode 解析 envelope 并按 type 分派到具体消息，同时做字段校验
func Decode(b []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Type {
	case KindWelcome:
		return decodeAs[Welcome](env.Data)
	case KindPlayerState:
		return decodeAs[PlayerState](env.Data)
	case KindPlayerLeft:
		return decodeAs[PlayerLeft](env.Data)
	case KindLobbyConfig:
		return decodeAs[LobbyConfig](env.Data)
	case KindStartSession:
		return decodeAs[StartSession](env.Data)
	case KindRestartReq:
		return decodeAs[RestartRequest](env.Data)
	case KindRestartAck:
		return decodeAs[RestartAck](env.Data)
	case KindHostRestart:
		return decodeAs[HostRestart](env.Data)
	case KindGameOver:
		return decodeAs[GameOver](env.Data)
	case KindReturnToMenu:
		return decodeAs[ReturnToMenu](env.Data)
	case KindDoorEvent:
		return decodeAs[DoorEvent](env.Data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Type)
	}
}

func decodeAs[T Message](data json.RawMessage) (Message, error) {
	var m T
	if len(data) > 0 {
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", m.Kind(), err)
		}
	}
	if err := validate.Struct(m); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", m.Kind(), err)
	}
	return m, nil
}
