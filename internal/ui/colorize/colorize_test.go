package colorize

import "testing"

func TestDisabled(t *testing.T) {
	t.Setenv("HARDEN_NO_COLOR", "1")
	if Enabled() {
		t.Fatal("Enabled with HARDEN_NO_COLOR set")
	}
	const line = "call 0x401020"
	if got := Instruction(line); got != line {
		t.Errorf("Instruction = %q, want %q", got, line)
	}
}

func TestInstructionStrip(t *testing.T) {
	t.Setenv("HARDEN_NO_COLOR", "")
	t.Setenv("NO_COLOR", "")
	const line = "mov rax, qword ptr [rip+0x10]"
	got := Instruction(line)
	if Strip(got) != line {
		t.Errorf("Strip(Instruction(%q)) = %q", line, Strip(got))
	}
}

func TestStrip(t *testing.T) {
	if got := Strip("\x1b[38;2;1;2;3mnop\x1b[0m"); got != "nop" {
		t.Errorf("Strip = %q", got)
	}
}
