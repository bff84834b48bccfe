// Package noosexit defines an analyzer that forbids direct calls to
// os.Exit inside main.main, where they skip deferred cleanup.
package noosexit

import (
	"go/ast"
	"path/filepath"
	"strings"

	"golang.org/x/tools/go/analysis"
)

// Analyzer reports direct os.Exit calls in the main function of package
// main.
var Analyzer = &analysis.Analyzer{
	Name: "noosexit",
	Doc:  "prohibits direct use of os.Exit in main.main",
	Run:  run,
}

func run(pass *analysis.Pass) (interface{}, error) {
	if pass.Pkg.Name() != "main" {
		return nil, nil
	}

	for _, file := range pass.Files {
		// Generated wrappers in the build cache also declare main.main.
		if isGoBuildCacheFile(pass.Fset.File(file.Pos()).Name()) {
			continue
		}

		for _, decl := range file.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok || fn.Recv != nil || fn.Name.Name != "main" {
				continue
			}

			ast.Inspect(fn.Body, func(node ast.Node) bool {
				if isOsExitCall(node) {
					pass.Reportf(node.Pos(), "avoid using os.Exit in main.main")
				}

				return true
			})
		}
	}

	return nil, nil
}

func isOsExitCall(node ast.Node) bool {
	call, ok := node.(*ast.CallExpr)
	if !ok {
		return false
	}

	sel, ok := call.Fun.(*ast.SelectorExpr)
	if !ok || sel.Sel.Name != "Exit" {
		return false
	}

	ident, ok := sel.X.(*ast.Ident)

	return ok && ident.Name == "os"
}

func isGoBuildCacheFile(path string) bool {
	path = filepath.ToSlash(path)

	return strings.Contains(path, "/go-build/") || strings.Contains(path, `\go-build\`)
}
