package formula

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/PaesslerAG/gval"
)

type statement struct {
	target string
	eval   gval.Evaluable
}

type program []statement

// compileProgram parses statements of the form name = expression, separated
// by newlines or semicolons.
func (e *Evaluator) compileProgram(text string) (program, error) {
	var prog program

	for line := range strings.FieldsFuncSeq(text, func(r rune) bool { return r == '\n' || r == ';' }) {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		i := assignment(line)
		if i < 0 {
			return nil, fmt.Errorf("%w: statement %q is not an assignment", ErrMalformedFormula, line)
		}

		target := strings.TrimSpace(line[:i])
		if !isIdent(target) {
			return nil, fmt.Errorf("%w: cannot assign to %q", ErrMalformedFormula, target)
		}

		eval, err := e.lang.NewEvaluable(line[i+1:])
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrMalformedFormula, target, err)
		}

		prog = append(prog, statement{target: target, eval: eval})
	}

	if len(prog) == 0 {
		return nil, fmt.Errorf("%w: empty program", ErrMalformedFormula)
	}

	return prog, nil
}

func (p program) run(ctx context.Context, env map[string]any) (any, error) {
	for _, st := range p {
		v, err := st.eval(ctx, env)
		if err != nil {
			return nil, fmt.Errorf("formula: %s: %w", st.target, err)
		}

		env[st.target] = v
	}

	v, ok := env[OutputBinding]
	if !ok {
		return nil, fmt.Errorf("formula: program does not assign %s", OutputBinding)
	}

	return v, nil
}

// assignment returns the offset of the assignment operator of line, or -1.
func assignment(line string) int {
	for i := 0; i < len(line); i++ {
		if line[i] != '=' {
			continue
		}

		if i+1 < len(line) && line[i+1] == '=' {
			return -1
		}

		if i > 0 && strings.ContainsRune("<>!=", rune(line[i-1])) {
			return -1
		}

		return i
	}

	return -1
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}

	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}

		return false
	}

	return true
}
