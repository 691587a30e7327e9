/*
Package types defines the entity model replicated by the state store:
accounts, instances, nodes, overlay peers, CIDRs, and DNS zones. Every type
here is a CRDT register value — serializable, compared only through the
owning crdt.Map, and otherwise a plain data record.
*/
package types
