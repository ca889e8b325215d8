// Package posting encodes and decodes posting lists: the ascending
// (PointID, weight) sequences stored per dimension.
//
// # Format
//
// All integers are little-endian.
//
//	header    magic u16 | format u8 | reserved u8 | count u32 |
//	          maxWeight f32 | minWeight f32 | numBlocks u32
//	directory numBlocks × { lastID u32 | offset u32 }
//	blocks    numBlocks × { bitWidth u8 | n u8 | firstID u32 |
//	                        packed (delta-1) × (n-1) | weights × n }
//
// Blocks hold up to [BlockSize] elements. Within a block ids are stored as
// the gap to the previous id minus one, bit-packed LSB first at bitWidth
// bits per gap. Block offsets are relative to the first block.
//
// Weights are IEEE 754 half precision by default ([WeightFloat16]). Inputs
// beyond ±65504 are clamped. For |w| <= 65504 the dequantized weight w'
// satisfies |w' - w| <= max(|w|·2^-11, 2^-25). [WeightFloat32] keeps weights
// exact at twice the size.
//
// maxWeight and minWeight are stored unquantized and bound both the
// original and the dequantized weights, so score upper bounds derived from
// them never underestimate.
//
// The directory carries each block's last id, which lets a [Cursor] skip
// whole blocks without decoding them.
package posting
