package adapter

import "github.com/theupdateframework/ldb/adapter/filter"

// CompileFilter compiles a design-document filter expression (adapter/
// filter's restricted predicate DSL) into a Filter usable as
// ChangesOptions.Filter.
func CompileFilter(expr string) (Filter, error) {
	pred, err := filter.Compile(expr)
	if err != nil {
		return nil, err
	}
	return func(doc Body, query map[string]string) bool {
		return pred(doc, query)
	}, nil
}
