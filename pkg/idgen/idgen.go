// Package idgen 提供基于雪花算法的可排序 id 生成器。
// 结算批次依赖持仓 id 的单调性实现稳定处理顺序。
package idgen

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// Generator 雪花 id 生成器
type Generator struct {
	node *snowflake.Node
}

// New 创建生成器，nodeID 取值 [0, 1023]
func New(nodeID int64) (*Generator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %w", err)
	}
	return &Generator{node: node}, nil
}

// NextID 返回单调递增的 int64 id
func (g *Generator) NextID() int64 {
	return g.node.Generate().Int64()
}
