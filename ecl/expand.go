package ecl

import "github.com/RoaringBitmap/roaring/roaring64"

// Expand parses and evaluates an ECL expression against e in one step, for
// callers (the Facade's expandEcl/searchWithEcl) that have no need of the
// intermediate AST.
func Expand(expression string, e Evaluator) (*roaring64.Bitmap, error) {
	expr, err := Parse(expression)
	if err != nil {
		return nil, err
	}
	return Eval(expr, e)
}
