package domain

// ParamType: допустимые типы параметров инструмента
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamInteger ParamType = "integer"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
)

// Parameter описывает один аргумент инструмента. Порядок параметров в дескрипторе значим.
type Parameter struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Required    bool      `json:"required"`
	Description string    `json:"description,omitempty"`
}

// ToolDescriptor публикуется провайдером при старте и больше не меняется.
type ToolDescriptor struct {
	Name        string      `json:"name"` // уникален в пределах каталога
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
}

// Param ищет параметр по имени.
func (d ToolDescriptor) Param(name string) (Parameter, bool) {
	for _, p := range d.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// Catalog: упорядоченный снимок возможностей провайдера.
// Никогда не мутируется на месте: при обновлении заменяется целиком.
type Catalog struct {
	Tools []ToolDescriptor `json:"tools"`
}

// NewCatalog копирует дескрипторы, чтобы вызывающий код не мог изменить снимок задним числом.
func NewCatalog(tools []ToolDescriptor) *Catalog {
	cp := make([]ToolDescriptor, len(tools))
	for i, t := range tools {
		params := make([]Parameter, len(t.Parameters))
		copy(params, t.Parameters)
		t.Parameters = params
		cp[i] = t
	}
	return &Catalog{Tools: cp}
}

// Lookup проверяет принадлежность имени каталогу.
func (c *Catalog) Lookup(name string) (ToolDescriptor, bool) {
	if c == nil {
		return ToolDescriptor{}, false
	}
	for _, t := range c.Tools {
		if t.Name == name {
			return t, true
		}
	}
	return ToolDescriptor{}, false
}

func (c *Catalog) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.Tools))
	for _, t := range c.Tools {
		names = append(names, t.Name)
	}
	return names
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Tools)
}
