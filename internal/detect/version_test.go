package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSniffVersion(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"code.angularjs.org", `<script src='https://code.angularjs.org/1.5.8/angular.min.js'></script>`, "1.5.8"},
		{"google cdn", `<script src="//ajax.googleapis.com/ajax/libs/angularjs/1.2.20/angular.js"></script>`, "1.2.20"},
		{"versioned file", `<script src="/static/angular-1.4.12.min.js"></script>`, "1.4.12"},
		{"first match wins", `<script src="/lib/angular-1.3.0.js"></script><script src="/lib/angular-1.6.0.js"></script>`, "1.3.0"},
		{"inline banner", "<script>/*\n AngularJS v1.6.5\n (c) 2010-2017 Google, Inc.*/</script>", "1.6.5"},
		{"unversioned", `<script src="/angular.min.js"></script>`, ""},
		{"no angular", `<p>hello</p>`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SniffVersion([]byte(tt.body)))
		})
	}
}
