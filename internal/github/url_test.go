package github

import "testing"

func TestParseURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in     string
		want   RepoRef
		wantOK bool
	}{
		{"https://github.com/ada/notes.git", RepoRef{"ada", "notes"}, true},
		{"https://github.com/ada/notes", RepoRef{"ada", "notes"}, true},
		{"https://GitHub.com/Ada/Notes", RepoRef{"Ada", "Notes"}, true},
		{"git@github.com:ada/notes.git", RepoRef{"ada", "notes"}, true},
		{"git@github.com:ada/notes", RepoRef{"ada", "notes"}, true},
		{"https://gitlab.com/ada/notes.git", RepoRef{}, false},
		{"", RepoRef{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseURL(tt.in)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("ParseURL(%q) = %+v, %v; want %+v, %v", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestSuggestRepoName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"My Vault", "my-vault"},
		{"  Work   Notes  ", "work-notes"},
		{"notes 2024!", "notes-2024"},
		{"!!!", "my-vault"},
		{"", "my-vault"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := SuggestRepoName(tt.in); got != tt.want {
				t.Errorf("SuggestRepoName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
