package domain

import "sync/atomic"

// EngineContext 引擎运行上下文：标的目录、全局暂停位、费率与折扣表。
// 显式传入每个操作，不使用包级单例。
type EngineContext struct {
	Catalog   *AssetCatalog
	Fees      FeeSchedule
	Discounts *DiscountTable

	paused atomic.Bool
}

// NewEngineContext 创建引擎上下文。
func NewEngineContext(catalog *AssetCatalog, fees FeeSchedule, discounts *DiscountTable) *EngineContext {
	return &EngineContext{
		Catalog:   catalog,
		Fees:      fees,
		Discounts: discounts,
	}
}

// SetPaused 管理接口设置全局暂停位。
func (e *EngineContext) SetPaused(paused bool) {
	e.paused.Store(paused)
}

// Paused 读取暂停位。
func (e *EngineContext) Paused() bool {
	return e.paused.Load()
}

// EnsureTradable 每个变更型入口的共同守卫。
func (e *EngineContext) EnsureTradable() error {
	if e.Paused() {
		return ErrSystemPaused
	}
	return nil
}
