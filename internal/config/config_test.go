package config

import "testing"

func TestValidateAppliesDisallowUserPasswordImplication(t *testing.T) {
	c := Default()
	c.DisallowUserPassword = true
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !c.EnableSSHKeys {
		t.Error("expected --disallow-user-password to imply --enable-ssh-keys")
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	c := Default()
	c.Port = 0
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for invalid port")
	}
	c.Port = 70000
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
}

func TestValidateRejectsInsecureHQByDefault(t *testing.T) {
	c := Default()
	c.HQURL = "http://hq.example.com"
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for non-HTTPS HQ URL without --allow-insecure-hq")
	}
	c.AllowInsecureHQ = true
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate with AllowInsecureHQ: %v", err)
	}
}

func TestExpandHome(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	if got := expandHome("~/control"); got != "/home/tester/control" {
		t.Errorf("expandHome(~/control) = %q", got)
	}
	if got := expandHome("/absolute/path"); got != "/absolute/path" {
		t.Errorf("expandHome should leave absolute paths untouched, got %q", got)
	}
}
