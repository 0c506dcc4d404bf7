// Package store groups the persistence backends for orders, masters and
// assignments. Both backends satisfy the repository interfaces of
// core/dispatch and refuse a second PENDING assignment for an order.
package store
