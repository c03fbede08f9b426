// Copyright 2015 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package isolate

// Clause is one entry of a 'conditions' list: a boolean expression plus a
// 'then' Variables block and an optional legacy 'else' block. By the time
// Configs are built, Else has always been normalized away by
// ConvertOldToNewFormat; a Clause surviving with HasElse set is only ever
// seen transiently, right after parsing.
type Clause struct {
	Expr     CondExpr
	ExprText string
	Then     Variables
	Else     Variables
	HasElse  bool
}

// IsolateAST is the parser's output: an optional leading
// comment, a default (unconditional) variables block, the list of
// includes, and the list of conditional clauses.
type IsolateAST struct {
	Comment             string
	Includes            []string
	DefaultVariables    Variables
	HasDefaultVariables bool
	Clauses             []Clause
}
