// Package plantuml renders an elements.Model as a PlantUML state diagram.
package plantuml

import (
	"fmt"
	"io"
	"path"
	"slices"
	"strings"

	"github.com/stateforward/hsmcore/elements"
	"github.com/stateforward/hsmcore/kind"
)

func idFromQualifiedName(qualifiedName string) string {
	return strings.ReplaceAll(strings.ReplaceAll(strings.TrimPrefix(qualifiedName, "/"), "-", "_"), "/", ".")
}

func children(model elements.Model, owner string, states []string) []string {
	var result []string
	for _, name := range states {
		if model.Members()[name].Owner() == owner {
			result = append(result, name)
		}
	}
	return result
}

func generateState(builder *strings.Builder, depth int, qualifiedName string, model elements.Model, states []string) {
	id := idFromQualifiedName(qualifiedName)
	indent := strings.Repeat(" ", depth*2)
	nested := children(model, qualifiedName, states)
	if len(nested) == 0 {
		fmt.Fprintf(builder, "%sstate \"%s\" as %s\n", indent, path.Base(qualifiedName), id)
		return
	}
	fmt.Fprintf(builder, "%sstate \"%s\" as %s {\n", indent, path.Base(qualifiedName), id)
	for _, child := range nested {
		generateState(builder, depth+1, child, model, states)
	}
	fmt.Fprintf(builder, "%s}\n", indent)
}

func generateTransition(builder *strings.Builder, transition elements.Transition) {
	label := ""
	if events := transition.Events(); len(events) > 0 {
		label = " : " + strings.Join(events, "|")
	}
	source := idFromQualifiedName(transition.Source())
	if kind.Is(transition.Kind(), elements.InternalKind) {
		fmt.Fprintf(builder, "%s%s\n", source, label)
		return
	}
	fmt.Fprintf(builder, "%s ----> %s%s\n", source, idFromQualifiedName(transition.Target()), label)
}

// Generate writes the diagram for model: nested states first, then the initial pseudo
// transition, then every recorded transition in source order.
func Generate(writer io.Writer, model elements.Model) error {
	var builder strings.Builder
	states := elements.States(model)
	fmt.Fprintf(&builder, "@startuml %s\n", path.Base(model.Id()))
	for _, root := range children(model, model.QualifiedName(), states) {
		generateState(&builder, 0, root, model, states)
	}
	if initial := model.Initial(); initial != "" {
		fmt.Fprintf(&builder, "[*] --> %s\n", idFromQualifiedName(initial))
	}
	var transitions []elements.Transition
	for _, member := range model.Members() {
		if transition, ok := member.(elements.Transition); ok {
			transitions = append(transitions, transition)
		}
	}
	slices.SortFunc(transitions, func(a, b elements.Transition) int {
		return elements.ComparePaths(a.QualifiedName(), b.QualifiedName())
	})
	for _, transition := range transitions {
		generateTransition(&builder, transition)
	}
	fmt.Fprintln(&builder, "@enduml")
	_, err := io.WriteString(writer, builder.String())
	return err
}
