// Package document implements the structured document every chain unit reads and
// writes: an ordered, key-unique tree of mappings, sequences and scalars backed by
// yaml.v3 nodes.
//
// A Document always has a mapping at its root. Key order is preserved so that the
// serialized runtime file is stable, but it carries no meaning except inside
// sequences. Values handed in or out of a Document are deep copies; two documents
// never share nodes, which lets every pipeline stage own its input outright.
//
// Merging is deliberately asymmetric: mappings merge recursively, everything else
// (sequences included) is replaced wholesale by the patch.
package document
