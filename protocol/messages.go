// Package protocol 定义会话参与者之间交换的消息目录
package protocol

// Kind 消息类型标签（线上 envelope 的 type 字段）
type Kind string

const (
	KindWelcome      Kind = "welcome"
	KindPlayerState  Kind = "player_state"
	KindPlayerLeft   Kind = "player_left"
	KindLobbyConfig  Kind = "lobby_config"
	KindStartSession Kind = "start_session"
	KindRestartReq   Kind = "restart_request"
	KindRestartAck   Kind = "restart_ack"
	KindHostRestart  Kind = "host_restart"
	KindGameOver     Kind = "game_over"
	KindReturnToMenu Kind = "return_to_menu"
	KindDoorEvent    Kind = "door_event"
)

// Message 所有消息变体实现的封闭接口
type Message interface {
	Kind() Kind
}

// Welcome 服务端 → 单个客户端：告知连接分配到的 id
type Welcome struct {
	ID int `json:"id" validate:"gte=1"`
}

// PlayerState 客户端 → 服务端（本地状态），服务端 → 全体（名册）
type PlayerState struct {
	ID    int     `json:"id" validate:"gte=0"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Alive bool    `json:"alive"`
}

// PlayerLeft 服务端 → 全体：某玩家断开
type PlayerLeft struct {
	ID int `json:"id" validate:"gte=1"`
}

// LobbyConfig 房主 → 服务端：关卡与期望人数
type LobbyConfig struct {
	LevelIdentifier string `json:"levelIdentifier" validate:"max=256"`
	ExpectedPlayers int    `json:"expectedPlayers" validate:"gte=0"`
}

// StartSession 服务端 → 全体
type StartSession struct {
	LevelIdentifier string `json:"levelIdentifier" validate:"required,max=256"`
	PlayerCount     int    `json:"playerCount" validate:"gte=1"`
}

// RestartRequest 服务端 → 单个客户端，需要 RestartAck 确认
type RestartRequest struct {
	LevelIdentifier string `json:"levelIdentifier" validate:"required,max=256"`
	PlayerCount     int    `json:"playerCount" validate:"gte=0"`
	RoundID         int64  `json:"roundId" validate:"gte=1"`
}

// RestartAck 客户端 → 服务端
type RestartAck struct {
	RoundID int64 `json:"roundId" validate:"gte=1"`
}

// HostRestart 房主 → 服务端：请求开启新一轮重开
type HostRestart struct {
	LevelIdentifier string `json:"levelIdentifier" validate:"max=256"`
}

// GameOver 任一方 → 服务端 → 全体
type GameOver struct {
	Reason string `json:"reason" validate:"max=256"`
}

// ReturnToMenu 任一方 → 服务端 → 全体
type ReturnToMenu struct {
	Reason string `json:"reason" validate:"max=256"`
}

// DoorEvent 客户端 → 服务端 → 其他所有客户端
type DoorEvent struct {
	DoorID int  `json:"doorId" validate:"gte=0"`
	Open   bool `json:"open"`
}

func (Welcome) Kind() Kind        { return KindWelcome }
func (PlayerState) Kind() Kind    { return KindPlayerState }
func (PlayerLeft) Kind() Kind     { return KindPlayerLeft }
func (LobbyConfig) Kind() Kind    { return KindLobbyConfig }
func (StartSession) Kind() Kind   { return KindStartSession }
func (RestartRequest) Kind() Kind { return KindRestartReq }
func (RestartAck) Kind() Kind     { return KindRestartAck }
func (HostRestart) Kind() Kind    { return KindHostRestart }
func (GameOver) Kind() Kind       { return KindGameOver }
func (ReturnToMenu) Kind() Kind   { return KindReturnToMenu }
func (DoorEvent) Kind() Kind      { return KindDoorEvent }
