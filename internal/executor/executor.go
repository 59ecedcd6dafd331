package executor

import (
	"context"
	"fmt"

	"github.com/weavegql/weave/internal/blueprint"
	"github.com/weavegql/weave/internal/dynamic"
	"github.com/weavegql/weave/internal/language"
)

type Path []PathElement

type PathElement any

type NodeID uint64

// executionState holds the state during query execution
type executionState struct {
	runtime        Runtime
	blueprint      *blueprint.Blueprint
	document       *language.QueryDocument
	variableValues map[string]dynamic.Value
	context        context.Context
	asyncTaskGroup []asyncTask
	errors         []GraphQLError
	// Store async tasks by ID for completion
	asyncTaskInfo map[NodeID]asyncTask
	// simple incremental id generator
	nextID uint64
	// prefixes of paths that have been nullified (tombstoned)
	nullifiedPrefix map[string]struct{}
}

// asyncTask represents a pending async field resolution
type asyncTask struct {
	ID           NodeID
	Task         AsyncResolveTask
	ResponsePath Path
	FieldType    *blueprint.TypeRef
	Fields       []*language.Field
}

type asyncPending struct{}

func (asyncPending) Kind() dynamic.Kind { return dynamic.KindNull }

type Executor struct {
	runtime   Runtime
	blueprint *blueprint.Blueprint
}

func NewExecutor(runtime Runtime, bp *blueprint.Blueprint) *Executor {
	return &Executor{runtime: runtime, blueprint: bp}
}

func (e *Executor) ExecuteRequest(
	ctx context.Context,
	document *language.QueryDocument,
	operationName string,
	variableValues map[string]dynamic.Value,
	initialValue dynamic.Value,
) *ExecutionResult {
	operation := getOperation(document, operationName)
	if operation == nil {
		return &ExecutionResult{Errors: []GraphQLError{{Message: "operation not found"}}}
	}

	coercedVariableValues, err := coerceVariableValues(e.blueprint, operation, variableValues)
	if err != nil {
		return &ExecutionResult{Errors: []GraphQLError{{Message: err.Error()}}}
	}

	var rootType *blueprint.Type
	switch operation.Operation {
	case language.Query:
		rootType = e.blueprint.Query()
	case language.Mutation:
		rootType = e.blueprint.Mutation()
	default:
		return &ExecutionResult{Errors: []GraphQLError{{Message: fmt.Sprintf("unsupported operation type: %s", operation.Operation)}}}
	}

	if rootType == nil {
		return &ExecutionResult{Errors: []GraphQLError{{Message: fmt.Sprintf("root type not found for %s operation", operation.Operation)}}}
	}

	state := &executionState{
		runtime:         e.runtime,
		blueprint:       e.blueprint,
		document:        document,
		variableValues:  coercedVariableValues,
		context:         ctx,
		asyncTaskGroup:  []asyncTask{},
		errors:          []GraphQLError{},
		asyncTaskInfo:   make(map[NodeID]asyncTask),
		nextID:          1,
		nullifiedPrefix: make(map[string]struct{}),
	}

	responseRoot := dynamic.NewRecord()

	// Root selection set: sync immediate expansion, async queued
	rootResult := executeSelectionSet(state, rootType, operation.SelectionSet, initialValue, Path{})
	if rootResult != nil {
		for _, k := range rootResult.Keys() {
			v, _ := rootResult.Get(k)
			responseRoot.Set(k, v)
		}
	}

	// Depth-wise batch loop
	for len(state.asyncTaskGroup) > 0 {
		filtered, results := flushAsyncTasks(state)
		for i, r := range results {
			completeAsyncField(state, filtered[i], r, responseRoot)
		}
	}

	return &ExecutionResult{Data: responseRoot, Errors: state.errors}
}

// executeSelectionSet executes a selection set without flushing. A nil return
// signals a non-null violation to the caller.
func executeSelectionSet(state *executionState, objectType *blueprint.Type, selectionSet language.SelectionSet, objectValue dynamic.Value, path Path) *dynamic.Record {
	groupedFields := collectFields(state, objectType, selectionSet)
	resultMap := dynamic.NewRecord()

	for _, collectedField := range groupedFields.orderedFields() {
		responseName := collectedField.ResponseName
		fields := collectedField.Fields
		fieldPath := appendPath(path, responseName)

		fieldResult := executeFieldGroup(state, objectType, objectValue, fields, fieldPath)

		// Handle __typename special case
		if fields[0].Name == "__typename" {
			resultMap.Set(responseName, fieldResult)
			continue
		}

		fieldDef := objectType.Field(fields[0].Name)
		if fieldDef == nil {
			// Unknown field; error was already recorded in executeFieldGroup
			continue
		}

		if _, pending := fieldResult.(asyncPending); pending {
			// Placeholder so the response key order matches the query; the
			// async completion overwrites it in place.
			resultMap.Set(responseName, dynamic.Null{})
			continue
		}

		// Handle non-null child behavior with nullish detection
		if fieldDef.Type.IsNonNull() && isNullish(fieldResult) {
			if len(path) > 0 {
				return nil
			}
			// Root level: keep going but write null
			resultMap.Set(responseName, dynamic.Null{})
			continue
		}

		if isNullish(fieldResult) {
			resultMap.Set(responseName, dynamic.Null{})
		} else {
			resultMap.Set(responseName, fieldResult)
		}
	}

	return resultMap
}

func executeFieldGroup(state *executionState, objectType *blueprint.Type, objectValue dynamic.Value, fields []*language.Field, path Path) dynamic.Value {
	field := fields[0]
	fieldName := field.Name

	// Handle __typename meta field
	if fieldName == "__typename" {
		return dynamic.String(objectType.Name)
	}

	fieldDef := objectType.Field(fieldName)
	if fieldDef == nil {
		state.errors = append(state.errors, GraphQLError{
			Message: fmt.Sprintf("Cannot query field '%s' on type '%s'", fieldName, objectType.Name),
			Path:    path,
		})
		return nil
	}

	argumentValues := coerceArgumentValues(fieldDef, field.Arguments, state.variableValues, state, path)

	if !fieldDef.IsAsync() {
		resolvedValue := resolveSyncField(state, objectType.Name, fieldName, objectValue, argumentValues, path)
		return completeValue(state, fieldDef.Type, fields, resolvedValue, path)
	}

	id := NodeID(state.nextID)
	state.nextID++
	at := asyncTask{
		ID: id,
		Task: AsyncResolveTask{
			ObjectType: objectType.Name,
			Field:      fieldName,
			Source:     objectValue,
			Args:       argumentValues,
		},
		ResponsePath: path,
		FieldType:    fieldDef.Type,
		Fields:       fields,
	}
	state.asyncTaskGroup = append(state.asyncTaskGroup, at)
	state.asyncTaskInfo[id] = at
	return asyncPending{}
}

// flushAsyncTasks flushes tasks and returns results (filtered by tombstones)
func flushAsyncTasks(state *executionState) ([]asyncTask, []AsyncResolveResult) {
	filtered := make([]asyncTask, 0, len(state.asyncTaskGroup))
	for _, at := range state.asyncTaskGroup {
		if state.hasNullifiedPrefix(at.ResponsePath) {
			delete(state.asyncTaskInfo, at.ID)
			continue
		}
		filtered = append(filtered, at)
	}

	tasks := make([]AsyncResolveTask, len(filtered))
	for i, at := range filtered {
		tasks[i] = at.Task
	}

	// Clear group before executing
	state.asyncTaskGroup = nil

	if len(tasks) == 0 {
		return filtered, nil
	}
	results := state.runtime.BatchResolveAsync(state.context, tasks)
	return filtered, results
}

// completeAsyncField completes a single async result, with non-null propagation and pruning
func completeAsyncField(state *executionState, at asyncTask, res AsyncResolveResult, responseRoot *dynamic.Record) {
	delete(state.asyncTaskInfo, at.ID)

	path := at.ResponsePath
	if state.hasNullifiedPrefix(path) {
		return
	}

	if res.Error != nil {
		state.errors = append(state.errors, GraphQLError{Message: res.Error.Error(), Path: path})
		if at.FieldType.IsNonNull() {
			top := topLevelFieldPath(path)
			setValueAtPath(responseRoot, top, dynamic.Null{})
			state.markNullifiedPrefix(top)
			return
		}
		setValueAtPath(responseRoot, path, dynamic.Null{})
		return
	}

	completed := completeValue(state, at.FieldType, at.Fields, res.Value, path)

	// Non-null type but completion yielded nullish: propagate
	if at.FieldType.IsNonNull() && isNullish(completed) {
		top := topLevelFieldPath(path)
		setValueAtPath(responseRoot, top, dynamic.Null{})
		state.markNullifiedPrefix(top)
		return
	}

	if isNullish(completed) {
		setValueAtPath(responseRoot, path, dynamic.Null{})
	} else {
		setValueAtPath(responseRoot, path, completed)
	}
}

// completeValue completes a value
func completeValue(state *executionState, fieldType *blueprint.TypeRef, fields []*language.Field, result dynamic.Value, path Path) dynamic.Value {
	if _, pending := result.(asyncPending); pending {
		return result
	}
	result = unwrapOption(result)

	if fieldType.IsNonNull() {
		if isNullish(result) {
			if !state.hasErrorAtPath(path) {
				state.errors = append(state.errors, GraphQLError{Message: fmt.Sprintf("Cannot return null for non-nullable field %s", pathToString(path)), Path: path})
			}
			return nil
		}
		inner := fieldType.Unwrap()
		completed := completeValue(state, inner, fields, result, path)
		if isNullish(completed) {
			// Error already recorded at original path; propagate only
			return nil
		}
		return completed
	}

	if isNullish(result) {
		return dynamic.Null{}
	}

	if fieldType.IsList() {
		return completeListValue(state, fieldType, fields, result, path)
	}
	namedType := fieldType.NamedType()
	typeObj := state.blueprint.Types[namedType]
	if typeObj == nil {
		state.addError(fmt.Sprintf("Unknown type: %s", namedType), path)
		return nil
	}

	switch typeObj.Kind {
	case blueprint.KindScalar, blueprint.KindEnum:
		serialized, err := state.runtime.SerializeLeafValue(state.context, namedType, result)
		if err != nil {
			state.addError(err.Error(), path)
			return nil
		}
		return serialized
	case blueprint.KindObject:
		return completeObjectValue(state, typeObj, fields, result, path)
	default:
		state.addError(fmt.Sprintf("Cannot complete value of unexpected type: %s", typeObj.Kind), path)
		return nil
	}
}

// completeListValue completes a list value
func completeListValue(state *executionState, listType *blueprint.TypeRef, fields []*language.Field, result dynamic.Value, path Path) dynamic.Value {
	items, ok := result.(dynamic.List)
	if !ok {
		state.addError(fmt.Sprintf("Expected list value, got %s", result.Kind()), path)
		return nil
	}

	inner := listType.Unwrap()
	completed := make(dynamic.List, len(items))
	for i, item := range items {
		p := appendPath(path, i)
		v := completeValue(state, inner, fields, item, p)
		if inner.IsNonNull() && isNullish(v) {
			// Propagate null to the list field; error already recorded by inner completion
			return nil
		}
		if isNullish(v) {
			completed[i] = dynamic.Null{}
		} else {
			completed[i] = v
		}
	}
	return completed
}

func completeObjectValue(state *executionState, objectType *blueprint.Type, fields []*language.Field, result dynamic.Value, path Path) dynamic.Value {
	sub := mergeSelectionSets(fields)
	rec := executeSelectionSet(state, objectType, sub, result, path)
	if rec == nil {
		return nil
	}
	return rec
}

func pathToString(path Path) string {
	result := ""
	for i, elem := range path {
		if i > 0 {
			result += "."
		}
		switch v := elem.(type) {
		case string:
			result += v
		case int:
			result += fmt.Sprintf("[%d]", v)
		}
	}
	return result
}

func appendPath(path Path, elem PathElement) Path {
	newPath := make(Path, len(path)+1)
	copy(newPath, path)
	newPath[len(path)] = elem
	return newPath
}

// Prefix tombstone helpers
func (s *executionState) markNullifiedPrefix(p Path) {
	key := pathToString(p)
	if key != "" {
		s.nullifiedPrefix[key] = struct{}{}
	}
}

func (s *executionState) hasNullifiedPrefix(p Path) bool {
	if len(s.nullifiedPrefix) == 0 {
		return false
	}
	cur := Path{}
	for _, elem := range p {
		cur = append(cur, elem)
		key := pathToString(cur)
		if _, ok := s.nullifiedPrefix[key]; ok {
			return true
		}
	}
	return false
}

func topLevelFieldPath(p Path) Path {
	for _, elem := range p {
		if name, ok := elem.(string); ok {
			return Path{name}
		}
	}
	return Path{}
}

// getOperation retrieves the operation from the document
func getOperation(document *language.QueryDocument, operationName string) *language.OperationDefinition {
	if operationName == "" && len(document.Operations) == 1 {
		for _, op := range document.Operations {
			return op
		}
	}
	for _, op := range document.Operations {
		if op.Name == operationName {
			return op
		}
	}
	return nil
}

func typeRefFromAST(t *language.Type) *blueprint.TypeRef {
	if t == nil {
		return nil
	}
	if t.NonNull {
		return blueprint.NonNull(typeRefFromAST(&language.Type{NamedType: t.NamedType, Elem: t.Elem}))
	}
	if t.NamedType != "" {
		return blueprint.Named(t.NamedType)
	}
	if t.Elem != nil {
		return blueprint.ListOf(typeRefFromAST(t.Elem))
	}
	return nil
}

func (state *executionState) addError(message string, path Path) {
	state.errors = append(state.errors, GraphQLError{Message: message, Path: path})
}

// hasErrorAtPath reports whether an error with the given path already exists.
func (state *executionState) hasErrorAtPath(path Path) bool {
	for _, err := range state.errors {
		if pathToString(err.Path) == pathToString(path) && len(err.Path) == len(path) {
			return true
		}
	}
	return false
}

// resolveSyncField resolves a field synchronously
func resolveSyncField(state *executionState, objectType string, fieldName string, source dynamic.Value, args *dynamic.Record, path Path) dynamic.Value {
	value, err := state.runtime.ResolveSync(state.context, objectType, fieldName, source, args)
	if err != nil {
		state.addError(err.Error(), path)
		return nil
	}
	return value
}

// setValueAtPath writes value at path in the response tree, creating
// intermediate records as needed.
func setValueAtPath(responseRoot *dynamic.Record, path Path, value dynamic.Value) {
	if len(path) == 0 {
		return
	}
	var current dynamic.Value = responseRoot
	for _, elem := range path[:len(path)-1] {
		switch e := elem.(type) {
		case string:
			rec, ok := current.(*dynamic.Record)
			if !ok {
				return
			}
			next, exists := rec.Get(e)
			if !exists || isNullish(next) {
				child := dynamic.NewRecord()
				rec.Set(e, child)
				next = child
			}
			current = next
		case int:
			list, ok := current.(dynamic.List)
			if !ok || e >= len(list) {
				return
			}
			if list[e] == nil || dynamic.IsNull(list[e]) {
				list[e] = dynamic.NewRecord()
			}
			current = list[e]
		}
	}
	finalElem := path[len(path)-1]
	switch fe := finalElem.(type) {
	case string:
		if rec, ok := current.(*dynamic.Record); ok {
			rec.Set(fe, value)
		}
	case int:
		if list, ok := current.(dynamic.List); ok && fe < len(list) {
			list[fe] = value
		}
	}
}

// mergeSelectionSets merges selection sets from multiple fields
func mergeSelectionSets(fields []*language.Field) language.SelectionSet {
	var merged language.SelectionSet
	for _, f := range fields {
		merged = append(merged, f.SelectionSet...)
	}
	return merged
}

// unwrapOption flattens option envelopes produced by resolver expressions.
func unwrapOption(v dynamic.Value) dynamic.Value {
	for {
		tag, ok := v.(dynamic.Tagged)
		if !ok {
			return v
		}
		switch tag.Name {
		case "Some":
			v = tag.Value
		case "None":
			return dynamic.Null{}
		default:
			return v
		}
	}
}

// isNullish reports whether v completes to GraphQL null.
func isNullish(v dynamic.Value) bool {
	if v == nil {
		return true
	}
	if dynamic.IsNull(v) {
		return true
	}
	if tag, ok := v.(dynamic.Tagged); ok && tag.Name == "None" {
		return true
	}
	return false
}
