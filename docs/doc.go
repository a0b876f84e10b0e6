// Package docs provides the OpenAPI documentation served at /swagger.json.
//
// docstream API
//
//	@title			docstream API
//	@version		1.0
//	@description	Asynchronous OCR of images and PDFs with per-page results streamed over Server-Sent Events.
//
//	@contact.name	API Support
//	@contact.url	https://github.com/jackzampolin/docstream
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@schemes	http https
package docs

//go:generate swag init -g ../cmd/docstream/serve.go -o . --outputTypes go --parseDependency --parseInternal
