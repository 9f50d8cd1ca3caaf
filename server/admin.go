package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/skip2/go-qrcode"
)

// Admin 管理与监控接口
type Admin struct {
	coord   *Coordinator
	conns   *ConnManager
	joinURL string // 二维码内容，如 ws://192.168.1.20:54555/ws
}

func NewAdmin(coord *Coordinator, conns *ConnManager, joinURL string) *Admin {
	return &Admin{coord: coord, conns: conns, joinURL: joinURL}
}

// HandleConfig 重试策略的读取与热更新
// GET  /admin/config  返回当前配置
// POST /admin/config  以 JSON 载荷更新部分字段
func (a *Admin) HandleConfig(w http.ResponseWriter, r *http.Request) {
	type cfg struct {
		RetryIntervalMs *int64 `json:"retryIntervalMs,omitempty"`
		MaxAttempts     *int   `json:"maxAttempts,omitempty"`
	}

	switch r.Method {
	case http.MethodGet:
		p := a.coord.RetryPolicy()
		ms := p.Interval.Milliseconds()
		writeJSON(w, http.StatusOK, cfg{RetryIntervalMs: &ms, MaxAttempts: &p.MaxAttempts})
	case http.MethodPost:
		var body cfg
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		var p RetryPolicy
		if body.RetryIntervalMs != nil {
			if *body.RetryIntervalMs <= 0 {
				http.Error(w, "retryIntervalMs must be positive", http.StatusBadRequest)
				return
			}
			p.Interval = time.Duration(*body.RetryIntervalMs) * time.Millisecond
		}
		if body.MaxAttempts != nil {
			if *body.MaxAttempts <= 0 {
				http.Error(w, "maxAttempts must be positive", http.StatusBadRequest)
				return
			}
			p.MaxAttempts = *body.MaxAttempts
		}
		a.coord.SetRetryPolicy(p)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleRestart 以房主身份发起重开
// POST /admin/restart {"level":"level1"}，level 省略时沿用当前关卡
func (a *Admin) HandleRestart(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Level string `json:"level"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	round, ok := a.coord.RequestRestart(body.Level)
	if !ok {
		http.Error(w, "no level known", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"roundId": round})
}

// HandleStatus 会话快照
func (a *Admin) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.coord.Status())
}

// HandleMetrics 输出运行指标
func (a *Admin) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	st := a.coord.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"phase":       st.Phase,
		"connections": a.conns.Len(),
		"metrics":     a.coord.Metrics().Snapshot(),
	})
}

// HandleJoinQR 加入地址的二维码，方便局域网内其他设备扫码连接
func (a *Admin) HandleJoinQR(w http.ResponseWriter, r *http.Request) {
	png, err := qrcode.Encode(a.joinURL, qrcode.Medium, 256)
	if err != nil {
		http.Error(w, "qr encode failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
