// Package lineage builds metric lineage graphs.
//
// A lineage graph explains where a variant's value comes from: one source
// node per dictionary field the variant reads, a single transform node
// carrying the formula, and a single output node for the variant itself.
// Graphs do not depend on the calculation dimension.
//
// # Basic Usage
//
//	b := lineage.NewBuilder(dict)
//	g, err := b.Build(variant)
//	if err != nil {
//	    return err
//	}
//	if err := lineage.Validate(g); err != nil {
//	    return err
//	}
//
//	for _, e := range g.Edges {
//	    fmt.Printf("%s -%s-> %s\n", e.From, e.Label, e.To)
//	}
package lineage
