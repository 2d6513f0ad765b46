package openapi

import _ "embed"

// Spec REST APIのOpenAPIドキュメント
//
//go:embed openapi.yaml
var Spec []byte
