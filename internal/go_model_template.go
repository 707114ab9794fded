package internal

import (
	"bytes"
	"fmt"
	"go/format"
	"sort"
	"strings"
	"text/template"
)

const modelFileTemplate = `// Code generated by metaeditor from {{.SourceFile}}; DO NOT EDIT.
{{- if .BuildTag}}

//go:build {{.BuildTag}}
{{- end}}

package {{.Package}}
{{if .Imports}}
import (
{{- range .Imports}}
	{{printf "%q" .}}
{{- end}}
)
{{end}}
// {{.SchemaVar}} is the resolved schema of {{.Schema}}.
var {{.SchemaVar}} = []byte({{printf "%q" .SchemaJSON}})
{{range .Decls}}
{{template "decl" .}}
{{end}}
{{- if .BaseFunc}}
// Validate checks the model against {{.SchemaVar}}.
func (m {{if .RootIsStruct}}*{{end}}{{.Root}}) Validate() error {
	return {{.BaseFunc}}({{.SchemaVar}}, m)
}
{{end}}`

const declTemplate = `{{define "doc"}}{{range .}}// {{.}}
{{end}}{{end}}
{{- define "decl"}}
{{- if eq .Kind "struct"}}{{template "doc" .Doc}}type {{.Name}} struct {
{{- range .Fields}}
{{- range .Doc}}
	// {{.}}
{{- end}}
	{{.Name}} {{.Type}} ` + "`{{.Tag}}`" + `
{{- end}}
}
{{- else if eq .Kind "enum"}}{{template "doc" .Doc}}type {{.Name}} string
{{$name := .Name}}
const (
{{- range .Values}}
	{{.Const}} {{$name}} = {{.Value}}
{{- end}}
)

// Valid reports whether v is one of the declared values.
func (v {{.Name}}) Valid() bool {
	switch v {
	case {{constList .Values}}:
		return true
	}
	return false
}

// UnmarshalJSON rejects values outside the declared set.
func (v *{{.Name}}) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if !{{.Name}}(s).Valid() {
		return fmt.Errorf("invalid {{.Name}} %q", s)
	}
	*v = {{.Name}}(s)
	return nil
}
{{- else if eq .Kind "alias"}}type {{.Name}} = {{.Underlying}}
{{- else}}{{template "doc" .Doc}}type {{.Name}} {{.Underlying}}
{{- end}}
{{- end}}`

var modelTemplates = template.Must(template.Must(
	template.New("model").Funcs(template.FuncMap{
		"constList": func(values []goEnumValue) string {
			names := make([]string, len(values))
			for i, v := range values {
				names[i] = v.Const
			}
			return strings.Join(names, ", ")
		},
	}).Parse(modelFileTemplate)).Parse(declTemplate))

type modelFileData struct {
	SourceFile   string
	BuildTag     string
	Package      string
	Imports      []string
	Schema       string
	SchemaVar    string
	SchemaJSON   string
	Decls        []*goDecl
	Root         string
	RootIsStruct bool
	BaseFunc     string
}

// renderModelFile executes the template and gofmts the result.
func renderModelFile(data modelFileData) ([]byte, error) {
	var buf bytes.Buffer
	if err := modelTemplates.ExecuteTemplate(&buf, "model", data); err != nil {
		return nil, fmt.Errorf("render models: %w", err)
	}
	formatted, err := format.Source(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("format generated source: %w", err)
	}
	return formatted, nil
}

// modelImports lists the packages a generated file needs.
func modelImports(decls []*goDecl, baseImport, baseFunc string) []string {
	set := map[string]bool{}
	for _, d := range decls {
		if d.Kind == declEnum {
			set["encoding/json"] = true
			set["fmt"] = true
		}
	}
	if baseImport != "" && strings.Contains(baseFunc, ".") {
		set[baseImport] = true
	}
	out := make([]string, 0, len(set))
	for imp := range set {
		out = append(out, imp)
	}
	sort.Strings(out)
	return out
}

// buildTag turns a target Go version such as "1.22" into a build constraint.
func buildTag(targetVersion string) string {
	v := strings.TrimPrefix(strings.TrimSpace(targetVersion), "go")
	if v == "" {
		return ""
	}
	return "go" + v
}
