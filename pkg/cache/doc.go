// Package cache provides rbac.DecisionCache implementations.
//
// LRU keeps decisions in process with golang-lru's expirable cache; Redis
// shares them between replicas of the API server. Both index cached keys by
// role so a write to one role evicts only the decisions that involved it.
//
// A cache is never the source of truth: rbac.Resolver treats every cache
// error as a miss and falls through to the store.
package cache
