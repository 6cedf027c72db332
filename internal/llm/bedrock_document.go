package llm

import (
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithydocument "github.com/aws/smithy-go/document"
)

// smithyDocumentOf wraps a plain Go value as the lazily-marshaled document
// type Bedrock's Converse API expects for free-form tool input/schema JSON.
func smithyDocumentOf(v map[string]any) types.Document {
	return smithydocument.NewLazyDocument(v)
}
