package reconverge

import (
	"strings"
	"testing"
)

func TestOpKindNames(t *testing.T) {
	seen := make(map[string]OpKind)
	for k := OpKind(0); k < numOpKinds; k++ {
		name := k.String()
		if name == "" {
			t.Fatalf("op kind %d has no name", int(k))
		}
		if prev, ok := seen[name]; ok {
			t.Fatalf("name %q used by %d and %d", name, int(prev), int(k))
		}
		seen[name] = k

		parsed, err := ParseOpKind(name)
		if err != nil {
			t.Fatalf("ParseOpKind(%q): %v", name, err)
		}
		if parsed != k {
			t.Errorf("ParseOpKind(%q) = %d, want %d", name, int(parsed), int(k))
		}
	}
	if _, err := ParseOpKind("goto"); err == nil {
		t.Error("ParseOpKind accepted an unknown name")
	}
}

func TestOpKindStringPanicsOutOfRange(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for invalid op kind")
		}
	}()
	_ = numOpKinds.String()
}

func TestCloser(t *testing.T) {
	for k := OpKind(0); k < numOpKinds; k++ {
		if !k.Opens() {
			continue
		}
		if c := k.Closer(); !c.Closes() {
			t.Errorf("%s closes with %s, which does not close a scope", k, c)
		}
		if k.IsLoop() && k.IsSwitch() {
			t.Errorf("%s is both a loop and a switch", k)
		}
	}
}

func TestMaxNesting(t *testing.T) {
	tests := []struct {
		name    string
		ops     []Op
		want    int
		wantErr string
	}{
		{
			name: "flat",
			ops:  []Op{{Kind: OpBallot}, {Kind: OpNoise}},
			want: 0,
		},
		{
			name: "nested",
			ops: []Op{
				{Kind: OpForUniform, Value: 2},
				{Kind: OpIfMask, Value: 1},
				{Kind: OpElect},
				{Kind: OpBallot},
				{Kind: OpEndIf},
				{Kind: OpEndIf},
				{Kind: OpEndForUniform},
				{Kind: OpCall},
				{Kind: OpEndCall},
			},
			want: 3,
		},
		{
			name:    "wrong closer",
			ops:     []Op{{Kind: OpForVar}, {Kind: OpEndIf}},
			wantErr: "endif closes forvar",
		},
		{
			name:    "unbalanced",
			ops:     []Op{{Kind: OpCall}},
			wantErr: "1 scopes left open",
		},
		{
			name:    "stray closer",
			ops:     []Op{{Kind: OpEndSwitch}},
			wantErr: "without open scope",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MaxNesting(tt.ops)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("MaxNesting() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("MaxNesting() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("MaxNesting() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestOpString(t *testing.T) {
	tests := []struct {
		op   Op
		want string
	}{
		{Op{Kind: OpBallot}, "ballot"},
		{Op{Kind: OpStore, Value: 0x10005}, "store(0x10005)"},
		{Op{Kind: OpIfMask, Value: 3}, "ifmask(3)"},
		{Op{Kind: OpCaseMask, Value: 0x11111111, CaseValue: 1}, "casemask(0x11111111, labels=0x1)"},
	}
	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestParseStyle(t *testing.T) {
	tests := []struct {
		in   string
		want Style
	}{
		{"workgroup", StyleWorkgroup},
		{"Whole-Group", StyleWorkgroup},
		{"subgroup", StyleSubgroup},
		{"exact", StyleMaximal},
		{" wgslv1 ", StyleWGSLv1},
		{"relaxed", StyleWGSLv1},
	}
	for _, tt := range tests {
		got, err := ParseStyle(tt.in)
		if err != nil {
			t.Fatalf("ParseStyle(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseStyle(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
	for _, s := range Styles() {
		got, err := ParseStyle(s.String())
		if err != nil || got != s {
			t.Errorf("ParseStyle(%q) = %v, %v", s.String(), got, err)
		}
	}
	if _, err := ParseStyle("eventual"); err == nil {
		t.Error("ParseStyle accepted an unknown style")
	}
}
