// Package profile persists chain items on disk and turns them into a
// chain.Registry.
//
// Layout inside the data directory:
//
//	profiles.yaml         index: item records plus the ordered chain of uids
//	profiles/<uid>.yaml   merge patch source
//	profiles/<uid>.go     script source
package profile
