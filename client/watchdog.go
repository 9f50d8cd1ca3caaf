package client

import (
	"time"

	"coopsession/protocol"
)

// RequestReturnToMenu 通知协调器返回菜单并启动看门狗
// 看门狗到期前未收到协调器的广播，则本地单方面结束会话；发送失败同样依赖看门狗
func (c *Client) RequestReturnToMenu(reason string) error {
	err := c.send(protocol.ReturnToMenu{Reason: reason})
	c.startWatchdog(reason)
	return err
}

func (c *Client) startWatchdog(reason string) {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	if c.watchdog != nil {
		c.watchdog.Stop()
	}
	c.watchGen++
	gen := c.watchGen
	c.watchdog = time.AfterFunc(c.opts.MenuWatchdog, func() { c.watchdogFired(gen, reason) })
}

func (c *Client) stopWatchdog() {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	if c.watchdog != nil {
		c.watchdog.Stop()
		c.watchdog = nil
	}
	c.watchGen++
}

func (c *Client) watchdogFired(gen uint64, reason string) {
	c.watchMu.Lock()
	if gen != c.watchGen {
		// 已被广播或新的请求取代
		c.watchMu.Unlock()
		return
	}
	c.watchdog = nil
	c.watchMu.Unlock()

	c.log.Warnw("return-to-menu broadcast not observed, leaving session locally", "after", c.opts.MenuWatchdog)
	c.teardown()
	c.menuSlot.put(MenuEvent{Reason: reason, Local: true})
}

// teardown 清空其他玩家视图、门状态与未消费的开局/重开事件
// 已处理轮次保留到下一次开局，迟到的旧轮次重开请求不会再次重置关卡
func (c *Client) teardown() {
	c.viewMu.Lock()
	clear(c.remotes)
	c.viewMu.Unlock()
	c.doors.Reset()
	c.startSlot.clear()
	c.restartSlot.clear()
}
