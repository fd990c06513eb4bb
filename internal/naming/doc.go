// Package naming derives output paths for processed images from a small
// template language.
//
// A template is parsed once and rendered per input:
//
//	%p  directory part of the input, including the trailing separator
//	%f  file name without extension
//	%x  extension without the leading dot
//	%c  the whole input
//	%0  sequence index, %1..%9 zero-pads it to that width
//	%%  a literal percent sign
//
// Any other character after '%' is a parse error. So is a '%' that ends the
// template: it is rejected rather than silently dropped, so a truncated
// template never renders a surprising name.
//
// Both '/' and '\' are treated as path separators. A parsed Template is
// immutable and safe for concurrent use.
package naming
