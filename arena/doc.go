// Package arena 是吞噬竞技场的权威模拟核心：
// 均匀网格空间索引、实体存储、固定步长 Tick 与按视口过滤的快照。
//
// World 不是并发安全的，调用方必须保证单一写者。
package arena
