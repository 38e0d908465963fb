// Package store holds the persistence backends for agent records. Each
// subpackage implements core.RecordStore:
//
//   - store/sqlite keeps one row per agent with JSON columns.
//   - store/toml writes one versioned TOML file per agent.
//   - store/mysql normalizes records into agent, memory, task and relation
//     tables through gorm.
package store
