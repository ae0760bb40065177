package main

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplay(t *testing.T) {
	color.NoColor = true
	tests := []struct {
		desc   string
		script script
		revert string
		want   []string
	}{
		{
			desc: "sequential edits",
			script: script{
				Initial: "hello world",
				Clients: []string{"A", "B"},
				Steps: []step{
					{Client: "A", Text: "hello, world"},
					{Client: "B", Text: "hello, world!"},
				},
			},
			want: []string{`edited: "hello, world!"`, "2 ops"},
		},
		{
			desc: "concurrent edits",
			script: script{
				Initial: "abc",
				Clients: []string{"A", "B"},
				Steps: []step{
					{Client: "A", Text: "abcd", Concurrent: true},
					{Client: "B", Text: "xabc"},
				},
			},
			want: []string{`edited: "xabcd"`},
		},
		{
			desc: "revert inserts",
			script: script{
				Initial: "abc",
				Clients: []string{"A", "B"},
				Steps: []step{
					{Client: "B", Text: "abXc"},
					{Client: "A", Text: "YabXc"},
				},
			},
			revert: "B",
			want:   []string{`edited: "YabXc"`, `reverted: "Yabc"`},
		},
		{
			desc: "revert removes",
			script: script{
				Initial: "abcdef",
				Clients: []string{"A", "B", "C"},
				Steps: []step{
					{Client: "B", Text: "af"},
					{Client: "C", Text: "Zaf"},
				},
			},
			revert: "B",
			want:   []string{`edited: "Zaf"`, `reverted: "Zabcdef"`},
		},
		{
			desc: "initial text with removed characters",
			script: script{
				Initial: "ab--c",
				Clients: []string{"A"},
				Steps: []step{
					{Client: "A", Text: "abc!"},
				},
			},
			want: []string{`edited: "abc!"`, "1 ops"},
		},
	}
	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			var buf bytes.Buffer
			err := replay(&test.script, test.revert, &buf, nil)
			require.NoError(t, err)
			for _, want := range test.want {
				assert.Contains(t, buf.String(), want)
			}
		})
	}
}

func TestReplay_Errors(t *testing.T) {
	tests := []struct {
		desc    string
		script  script
		revert  string
		wantErr error
	}{
		{"no clients", script{Initial: "abc"}, "", errNoClients},
		{"unknown step client", script{Clients: []string{"A"}, Steps: []step{{Client: "B", Text: "x"}}}, "", errUnknownClient},
		{"unknown revert client", script{Clients: []string{"A"}}, "B", errUnknownClient},
	}
	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			err := replay(&test.script, test.revert, &bytes.Buffer{}, nil)
			assert.ErrorIs(t, err, test.wantErr)
		})
	}
}
