// Package models contains the GORM persistence models of the service. Domain entities
// carry no ORM tags; each model maps one table and converts to and from its entity with
// ToDomain / FromDomain.
//
//   - base.go: shared id, timestamp and version columns
//   - inventory.go: inventory_batches
//   - trade.go: orders and order_items, including the per-line allocation trace
package models
