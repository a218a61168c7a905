/*
Package render implements the page rendering engine of the message station.

Pages are plain HTML with two kinds of tags. An inclusion tag pulls in a
named template from the store:

	<#profile: {"username": "ann", "email": "ann@example.com"}>

A substitution tag is replaced by a keyword from the rendering context, or by
its default text when the keyword is missing:

	<span>{{ username = guest }}</span>

Keywords come from three layers, lowest precedence first: the default mapping
(current time and renderer version), the global mapping configured at startup,
and the per-request mapping handed to Render. Included templates only see the
first two layers plus the JSON parameters written in their inclusion tag.

Rendering never fails. Unknown templates, malformed parameters and missing
keywords all degrade to empty or default text.
*/
package render
