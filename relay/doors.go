// Package relay 同步所有参与者都必须一致观察到的世界事件（目前为门的开关）
package relay

import (
	"maps"
	"sync"

	"coopsession/protocol"
)

// Emitter 将本地产生的门事件发送给协调器
type Emitter func(protocol.DoorEvent) error

// Applier 世界/物理层提供的门状态入口
type Applier interface {
	ApplyDoorState(doorID int, open bool)
}

// ApplierFunc 适配普通函数
type ApplierFunc func(doorID int, open bool)

func (f ApplierFunc) ApplyDoorState(doorID int, open bool) { f(doorID, open) }

// Doors 门状态表：最后写入为准
type Doors struct {
	mu    sync.Mutex
	state map[int]bool
	emit  Emitter
	world Applier
}

// NewDoors world 可为 nil（无界面的客户端）
func NewDoors(emit Emitter, world Applier) *Doors {
	return &Doors{
		state: make(map[int]bool),
		emit:  emit,
		world: world,
	}
}

// Emit 本地状态变化：每次真实变化只发送一次，重复值不重发
// 发送失败时回滚本地记录，返回错误给调用方
func (d *Doors) Emit(doorID int, open bool) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	prev, known := d.state[doorID]
	if known && prev == open {
		return false, nil
	}
	d.state[doorID] = open
	if err := d.emit(protocol.DoorEvent{DoorID: doorID, Open: open}); err != nil {
		if known {
			d.state[doorID] = prev
		} else {
			delete(d.state, doorID)
		}
		return false, err
	}
	return true, nil
}

// Apply 应用中继过来的事件（幂等：相同取值不触发世界层）
func (d *Doors) Apply(ev protocol.DoorEvent) bool {
	d.mu.Lock()
	prev, known := d.state[ev.DoorID]
	if known && prev == ev.Open {
		d.mu.Unlock()
		return false
	}
	d.state[ev.DoorID] = ev.Open
	d.mu.Unlock()

	if d.world != nil {
		d.world.ApplyDoorState(ev.DoorID, ev.Open)
	}
	return true
}

// Open 查询某扇门；known=false 表示尚无记录
func (d *Doors) Open(doorID int) (open, known bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	open, known = d.state[doorID]
	return open, known
}

// Snapshot 返回只读副本
func (d *Doors) Snapshot() map[int]bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return maps.Clone(d.state)
}

// Reset 会话结束或关卡重置时清空
func (d *Doors) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.state)
}
