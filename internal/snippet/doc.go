// Package snippet validates and compiles generated TypeScript/JavaScript
// snippets for live execution.
//
// Compilation is two independent stages:
//
//   - Typecheck: an esbuild bundle pass over the snippet with runtime
//     module specifiers marked external. It surfaces syntax, resolution and
//     lint findings but no type errors. Findings are filtered through a
//     leniency rule set and are advisory only.
//   - Lower: import declarations are dropped and the remainder is transpiled
//     to a bare statement sequence. A failure here is the only thing that
//     rejects a snippet.
//
// Check composes both. Every call uses fresh esbuild invocations, so a
// Compiler is safe for concurrent use.
package snippet
