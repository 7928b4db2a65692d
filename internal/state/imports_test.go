package state

import (
	"reflect"
	"testing"
)

func TestExpandUseTree(t *testing.T) {
	cases := []struct {
		stmt string
		want []string
	}{
		{"use std::collections::HashMap;", []string{"use std::collections::HashMap;"}},
		{"use std::collections::{HashMap, HashSet};", []string{
			"use std::collections::HashMap;",
			"use std::collections::HashSet;",
		}},
		{"use std::io::{self, Read};", []string{
			"use std::io;",
			"use std::io::Read;",
		}},
		{"use serde::Deserialize as De;", []string{"use serde::Deserialize as De;"}},
		{"use std::fmt::*;", []string{"use std::fmt::*;"}},
		{"use a::{b::{c, d}, e};", []string{
			"use a::b::c;",
			"use a::b::d;",
			"use a::e;",
		}},
		{"pub use crate::foo::Bar;", []string{"use crate::foo::Bar;"}},
	}
	for _, tc := range cases {
		paths, err := expandUseTree(tc.stmt)
		if err != nil {
			t.Fatalf("%q: %v", tc.stmt, err)
		}
		var got []string
		for _, p := range paths {
			got = append(got, p.render())
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("%q: got %v, want %v", tc.stmt, got, tc.want)
		}
	}
}

func TestExpandUseTreeErrors(t *testing.T) {
	for _, stmt := range []string{"use ;", "use a::{b, c;", "use a::{};"} {
		if _, err := expandUseTree(stmt); err == nil {
			t.Errorf("%q: expected error", stmt)
		}
	}
}

func TestImportSetDedup(t *testing.T) {
	im := newImportSet()
	for _, stmt := range []string{
		"use std::collections::HashMap;",
		"use std::collections::{HashMap, HashSet};",
	} {
		if err := im.add(stmt); err != nil {
			t.Fatalf("add %q: %v", stmt, err)
		}
	}
	got := im.statements()
	want := []string{"use std::collections::HashMap;", "use std::collections::HashSet;"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("statements = %v, want %v", got, want)
	}
}

func TestImportSetReplacesBinding(t *testing.T) {
	im := newImportSet()
	if err := im.add("use foo::Error;"); err != nil {
		t.Fatal(err)
	}
	if err := im.add("use bar::Error;"); err != nil {
		t.Fatal(err)
	}
	got := im.statements()
	if len(got) != 1 || got[0] != "use bar::Error;" {
		t.Errorf("statements = %v, want the later import only", got)
	}
}

func TestNormalizeTypeName(t *testing.T) {
	cases := []struct{ in, want string }{
		{"i32", "i32"},
		{"alloc::string::String", "std::string::String"},
		{"core::option::Option<i32>", "std::option::Option<i32>"},
		{"alloc::vec::Vec<alloc::string::String>", "std::vec::Vec<std::string::String>"},
		{"my_alloc::Thing", "my_alloc::Thing"},
		{"std::collections::HashMap<i32, core::time::Duration>",
			"std::collections::HashMap<i32, std::time::Duration>"},
	}
	for _, tc := range cases {
		if got := NormalizeTypeName(tc.in); got != tc.want {
			t.Errorf("NormalizeTypeName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCheckNameable(t *testing.T) {
	if err := CheckNameable("a", "i32"); err != nil {
		t.Errorf("plain type rejected: %v", err)
	}
	if err := CheckNameable("f", "tmp::{{closure}}"); err == nil {
		t.Error("closure type accepted")
	}
	if err := CheckNameable("g", ""); err == nil {
		t.Error("undetermined type accepted")
	}
}
